package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/intake/internal/api"
	"github.com/jackzampolin/intake/internal/svcctx"
)

// GatewaysResponse lists configured gateway clients.
type GatewaysResponse struct {
	Gateways []string `json:"gateways"`
}

// ListGatewaysEndpoint handles GET /api/gateways.
type ListGatewaysEndpoint struct{}

func (e *ListGatewaysEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/gateways", e.handler
}

func (e *ListGatewaysEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List configured model gateways
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	GatewaysResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/gateways [get]
func (e *ListGatewaysEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	registry := svcctx.RegistryFrom(r.Context())
	if registry == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway registry not initialized")
		return
	}
	writeJSON(w, http.StatusOK, GatewaysResponse{Gateways: registry.List()})
}

func (e *ListGatewaysEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "gateways",
		Short: "List configured model gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GatewaysResponse
			if err := client.Get(cmd.Context(), "/api/gateways", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
