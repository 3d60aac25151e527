package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/svcctx"
	"github.com/jackzampolin/intake/internal/types"
)

// ListItemsEndpoint handles GET /api/jobs/{id}/items.
type ListItemsEndpoint struct{}

func (e *ListItemsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/items", e.handler
}

func (e *ListItemsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List a job's materialized items
//	@Tags			items
//	@Produce		json
//	@Param			id		path		string	true	"Job ID"
//	@Param			section	query		string	false	"Filter by section (business, technical)"
//	@Param			status	query		string	false	"Filter by status (PENDING, APPROVED, REJECTED)"
//	@Success		200	{array}		types.Item
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/items [get]
func (e *ListItemsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	items, err := st.ListItems(r.Context(), store.ItemFilter{
		JobID:   r.PathValue("id"),
		Section: types.Section(r.URL.Query().Get("section")),
		Status:  types.ItemStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []types.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (e *ListItemsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var section, status string
	cmd := &cobra.Command{
		Use:   "items <job-id>",
		Short: "List a job's materialized items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/jobs/" + args[0] + "/items?section=" + section + "&status=" + status
			var items []types.Item
			if err := client.Get(cmd.Context(), path, &items); err != nil {
				return err
			}
			return api.Output(items)
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "Filter by section")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

// UpdateItemRequest is the review body for an item.
type UpdateItemRequest struct {
	Status types.ItemStatus `json:"status"`
}

// UpdateItemEndpoint handles PATCH /api/items/{id}.
type UpdateItemEndpoint struct{}

func (e *UpdateItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/items/{id}", e.handler
}

func (e *UpdateItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Review an item
//	@Description	Applies a review decision; reviewed items survive regeneration
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Item ID"
//	@Param			body	body		UpdateItemRequest	true	"Review decision"
//	@Success		204
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/items/{id} [patch]
func (e *UpdateItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	switch req.Status {
	case types.ItemPending, types.ItemApproved, types.ItemRejected:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	err := st.UpdateItemStatus(r.Context(), r.PathValue("id"), req.Status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *UpdateItemEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "review <item-id> <status>",
		Short: "Apply a review decision to an item (PENDING, APPROVED, REJECTED)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			req := UpdateItemRequest{Status: types.ItemStatus(args[1])}
			return client.Patch(cmd.Context(), "/api/items/"+args[0], req, nil)
		},
	}
}
