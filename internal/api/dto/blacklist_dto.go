package dto

import "github.com/cuongbtq/email-verifier/internal/blacklist"

type BlacklistProviderURI struct {
	Provider string `uri:"provider" binding:"required,fqdn"`
}

type BlacklistEntryURI struct {
	Provider string `uri:"provider" binding:"required,fqdn"`
	IP       string `uri:"ip" binding:"required,ip"`
}

type BlacklistEntryDTO struct {
	IP   string `json:"ip"`
	Note string `json:"note,omitempty"`
}

type ListBlacklistResponse struct {
	Provider string              `json:"provider"`
	Entries  []BlacklistEntryDTO `json:"entries"`
}

// NewListBlacklistResponse converts the stored entries of one provider
func NewListBlacklistResponse(provider string, items []blacklist.Item) ListBlacklistResponse {
	entries := make([]BlacklistEntryDTO, 0, len(items))
	for _, item := range items {
		entries = append(entries, BlacklistEntryDTO{IP: item.IP, Note: item.Note})
	}
	return ListBlacklistResponse{Provider: provider, Entries: entries}
}
