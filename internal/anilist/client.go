package anilist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	GraphQLEndpoint = "https://graphql.anilist.co"
)

// ErrDecode marks a response body that could not be decoded.
var ErrDecode = errors.New("anilist: undecodable response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("AniList API Error: %s", e.Status)
}

// GraphQLError carries the first entry of a response's errors[] list.
// Status is the HTTP-like code AniList puts on the entry, 0 when absent.
type GraphQLError struct {
	Message string
	Status  int
}

func (e *GraphQLError) Error() string {
	return fmt.Sprintf("AniList GraphQL Error: %s", e.Message)
}

type Client struct {
	client   *resty.Client
	endpoint string
	Token    string
}

func NewClientWithEndpoint(endpoint, token, proxyURL string, timeout time.Duration) *Client {
	c := resty.New()
	c.SetTimeout(timeout)
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	c.SetHeader("Content-Type", "application/json")
	c.SetHeader("Accept", "application/json")

	if endpoint == "" {
		endpoint = GraphQLEndpoint
	}
	return &Client{
		client:   c,
		endpoint: endpoint,
		Token:    token,
	}
}

type MediaTitle struct {
	Romaji  string `json:"romaji"`
	English string `json:"english"`
	Native  string `json:"native"`
}

// StreamingEpisode is an official streaming link listed on AniList.
type StreamingEpisode struct {
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	URL       string `json:"url"`
	Site      string `json:"site"`
}

type Media struct {
	ID                int                `json:"id"`
	Title             MediaTitle         `json:"title"`
	Episodes          int                `json:"episodes"`
	StreamingEpisodes []StreamingEpisode `json:"streamingEpisodes"`
}

type MediaResponseData struct {
	Media Media `json:"Media"`
}

type MediaResponse struct {
	Data   MediaResponseData `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

// GetStreamingEpisodes fetches the streaming episode links for a media id.
func (c *Client) GetStreamingEpisodes(ctx context.Context, id int) (*Media, error) {
	graphqlQuery := `
	query ($id: Int) {
	  Media(id: $id, type: ANIME) {
	    id
	    title {
	      romaji
	      english
	      native
	    }
	    episodes
	    streamingEpisodes {
	      title
	      thumbnail
	      url
	      site
	    }
	  }
	}
	`
	payload := map[string]interface{}{
		"query": graphqlQuery,
		"variables": map[string]interface{}{
			"id": id,
		},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(c.endpoint)

	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode(), Status: resp.Status()}
	}

	var result MediaResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}

	if len(result.Errors) > 0 {
		return nil, &GraphQLError{Message: result.Errors[0].Message, Status: result.Errors[0].Status}
	}

	return &result.Data.Media, nil
}
