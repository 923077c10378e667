package routes

import (
	"io"
	"net/http"

	"github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"

	"github.com/labstack/echo/v4"
)

// ValidateGraphHandler checks a posted graph document against the ontology
// without involving the model.
func ValidateGraphHandler(c echo.Context) error {
	type validateResponse struct {
		Message    string              `json:"message"`
		Accepted   bool                `json:"accepted"`
		Violations []extract.Violation `json:"violations"`
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, validateResponse{Message: "Invalid request body"})
	}

	schema := c.(*middleware.AppContext).App.Engine.Schema()
	g, err := graph.Decode(schema, body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, validateResponse{Message: "Invalid graph document"})
	}

	result := extract.Validate(g)
	violations := result.Violations
	if violations == nil {
		violations = []extract.Violation{}
	}

	message := "Graph is valid"
	if !result.Accepted() {
		message = "Graph violates the ontology"
	}
	return c.JSON(http.StatusOK, validateResponse{
		Message:    message,
		Accepted:   result.Accepted(),
		Violations: violations,
	})
}
