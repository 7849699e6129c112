package statemanager

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes adds state endpoints to an Echo group.
func (m *Manager) RegisterRoutes(g *echo.Group) {
	g.GET("/state", m.handleListNodes)
	g.GET("/state/:key", m.handleGetNode)
	g.GET("/state/stats", m.handleGetStats)
}

// handleListNodes returns every tracked query node.
func (m *Manager) handleListNodes(c echo.Context) error {
	return c.JSON(http.StatusOK, m.ListNodes())
}

// handleGetNode returns a specific node by its canonical key.
func (m *Manager) handleGetNode(c echo.Context) error {
	key := c.Param("key")
	node, ok := m.GetNode(key)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "node not found",
		})
	}
	return c.JSON(http.StatusOK, node)
}

// handleGetStats returns aggregated statistics.
func (m *Manager) handleGetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, m.GetStats())
}
