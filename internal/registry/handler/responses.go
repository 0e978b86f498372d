package handler

import (
	"alma/internal/registry/models"
)

// ListResponse wraps a filtered page of records.
type ListResponse struct {
	Items []models.Entity `json:"items"`
	Count int             `json:"count"`
}

// LinksResponse lists the relationships of one record.
type LinksResponse struct {
	Links []models.Link `json:"links"`
}

func toListResponse(items []models.Entity) ListResponse {
	if items == nil {
		items = []models.Entity{}
	}
	return ListResponse{Items: items, Count: len(items)}
}

func toLinksResponse(links []models.Link) LinksResponse {
	if links == nil {
		links = []models.Link{}
	}
	return LinksResponse{Links: links}
}
