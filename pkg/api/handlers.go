package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/craftlab-ai/gauntlet/pkg/models"
	"github.com/craftlab-ai/gauntlet/pkg/runner"
	"github.com/craftlab-ai/gauntlet/pkg/storage"
)

// errorBody is the uniform HTTP error shape.
type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// respondError maps service errors onto status codes and error codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := ""

	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, code = http.StatusNotFound, "TEST_NOT_FOUND"
	case errors.Is(err, runner.ErrInvalidScenario):
		status, code = http.StatusBadRequest, "INVALID_SCENARIO"
	case errors.Is(err, runner.ErrInvalidProfile), errors.Is(err, runner.ErrInvalidDuration):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, runner.ErrMaxTestsReached):
		status, code = http.StatusTooManyRequests, "MAX_TESTS_REACHED"
	case errors.Is(err, runner.ErrInvalidStatus):
		status, code = http.StatusConflict, "INVALID_STATUS"
	case errors.Is(err, runner.ErrTestActive):
		status, code = http.StatusConflict, "TEST_ACTIVE"
	}

	c.JSON(status, errorBody{Success: false, Message: err.Error(), Code: code})
}

func (s *Server) handleListScenarios(c *gin.Context) {
	scenarios := s.service.Scenarios()
	c.JSON(http.StatusOK, gin.H{"scenarios": scenarios, "count": len(scenarios)})
}

func (s *Server) handleCreateTest(c *gin.Context) {
	var req models.CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{
			Success: false, Message: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST",
		})
		return
	}

	run, err := s.service.CreateTest(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListTests(c *gin.Context) {
	filters := models.TestFilters{
		Status:       models.TestStatus(c.Query("status")),
		ScenarioType: models.ScenarioType(c.Query("scenarioType")),
	}
	tests, err := s.service.ListTests(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tests": tests, "count": len(tests)})
}

func (s *Server) handleGetTest(c *gin.Context) {
	run, err := s.service.GetTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleStartTest(c *gin.Context) {
	run, err := s.service.StartTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleStopTest(c *gin.Context) {
	run, err := s.service.StopTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteTest(c *gin.Context) {
	if err := s.service.DeleteTest(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "test deleted"})
}

func (s *Server) handleGetLogs(c *gin.Context) {
	testID := c.Param("id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorBody{
				Success: false, Message: "limit must be a non-negative integer", Code: "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	logs, err := s.service.Logs(c.Request.Context(), testID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"testId": testID, "logs": logs, "count": len(logs)})
}
