package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"

	"github.com/labstack/echo/v4"
)

// GetOntologyHandler returns the loaded ontology. With ?format=text it
// returns the description the model is shown instead.
func GetOntologyHandler(c echo.Context) error {
	type getOntologyResponse struct {
		Namespace       string            `json:"namespace"`
		EventClass      string            `json:"event_class"`
		MessageProperty string            `json:"message_property"`
		Classes         []*ontology.Class `json:"classes"`
	}

	schema := c.(*middleware.AppContext).App.Engine.Schema()
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, schema.Describe())
	}

	return c.JSON(http.StatusOK, getOntologyResponse{
		Namespace:       schema.Namespace(),
		EventClass:      schema.EventClass(),
		MessageProperty: schema.MessageProperty(),
		Classes:         schema.Classes(),
	})
}
