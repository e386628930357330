package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/clinchat/clinchat/internal/store"
)

// Directory fetches contact and presence information from the directory
// service.
type Directory struct {
	c *Client
}

// NewDirectory creates a directory service client.
func NewDirectory(c *Client) *Directory {
	return &Directory{c: c}
}

// PeerRoles returns the roles a user of the given role converses with:
// patients talk to clinical staff, staff talk to patients.
func PeerRoles(role string) []string {
	if role == "patient" {
		return []string{"doctor", "nurse", "laboratory"}
	}
	return []string{"patient"}
}

type contactDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	FullName  string `json:"fullName"`
	UserName  string `json:"userName"`
	AvatarRef string `json:"fileName"`
}

// ListContacts returns the directory entries for one role.
func (d *Directory) ListContacts(ctx context.Context, role string) ([]store.Contact, error) {
	path := "/users/by-role?role=" + url.QueryEscape(role)
	resp, err := d.c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var dtos []contactDTO
	if err := decodeJSON(resp.Body, &dtos); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}

	contacts := make([]store.Contact, 0, len(dtos))
	for _, dto := range dtos {
		id := dto.ID
		if id == "" {
			id = dto.UserID
		}
		name := dto.FullName
		if name == "" {
			name = dto.UserName
		}
		contacts = append(contacts, store.Contact{
			ID:          id,
			DisplayName: name,
			Role:        role,
			AvatarRef:   dto.AvatarRef,
		})
	}
	return contacts, nil
}

// FetchAll lists the contacts for every peer role of selfRole, de-duplicated
// by ID and excluding the local user.
func (d *Directory) FetchAll(ctx context.Context, selfID, selfRole string) ([]store.Contact, error) {
	seen := make(map[string]bool)
	var all []store.Contact
	for _, role := range PeerRoles(selfRole) {
		contacts, err := d.ListContacts(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, ct := range contacts {
			if ct.ID == "" || ct.ID == selfID || seen[ct.ID] {
				continue
			}
			seen[ct.ID] = true
			all = append(all, ct)
		}
	}
	return all, nil
}

// OnlineUsers returns the IDs of currently online users, the authoritative
// presence snapshot that backs the periodic poll.
func (d *Directory) OnlineUsers(ctx context.Context) ([]string, error) {
	resp, err := d.c.do(ctx, http.MethodGet, "/presence/online", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var ids []string
	if err := decodeJSON(resp.Body, &ids); err != nil {
		return nil, fmt.Errorf("decode online users: %w", err)
	}
	return ids, nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(v)
}
