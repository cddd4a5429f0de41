package main

import (
	"github.com/gin-gonic/gin"

	"github.com/tedhappy/ragflow-admin/observability"
)

// newRouter builds the gin engine.
// Middleware chain: recovery -> cors -> logging -> (auth) -> handler
func newRouter(h *handler, corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(recoveryMiddleware(), corsMiddleware(corsOrigins), logMiddleware())

	r.GET("/health", h.handleLiveness)
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/login", h.handleLogin)
	api.POST("/auth/logout", h.handleLogout)

	p := api.Group("", authMiddleware(h.sessions))
	p.GET("/auth/me", h.handleMe)
	p.POST("/auth/refresh", h.handleRefresh)

	p.GET("/dashboard/stats", h.handleDashboardStats)
	p.GET("/dashboard/system", h.handleSystemStatistics)

	p.GET("/users", h.handleListUsers)
	p.POST("/users", h.handleCreateUser)
	p.GET("/users/owners", h.handleOwners)
	p.POST("/users/batch-delete", h.handleDeleteUsers)
	p.GET("/users/:id", h.handleGetUser)
	p.PUT("/users/:id/status", h.handleUpdateUserStatus)
	p.PUT("/users/:id/password", h.handleUpdateUserPassword)
	p.GET("/users/:id/datasets", h.handleUserDatasets)
	p.GET("/users/:id/agents", h.handleUserAgents)
	p.GET("/users/:id/chats", h.handleUserChats)

	p.GET("/datasets", h.handleListDatasets)
	p.POST("/datasets", h.handleCreateDataset)
	p.POST("/datasets/batch-delete", h.handleDeleteDatasets)
	p.GET("/datasets/:id/documents", h.handleListDocuments)
	p.POST("/datasets/:id/documents/batch-delete", h.handleDeleteDocuments)
	p.POST("/datasets/:id/documents/parse", h.handleParseDatasetDocuments)
	p.POST("/datasets/:id/documents/stop", h.handleStopDatasetDocuments)

	p.GET("/chats", h.handleListChats)
	p.POST("/chats/batch-delete", h.handleDeleteChats)
	p.GET("/chats/:id/sessions", h.handleListChatSessions)
	p.POST("/chats/:id/sessions/batch-delete", h.handleDeleteChatSessions)

	p.GET("/agents", h.handleListAgents)
	p.POST("/agents/batch-delete", h.handleDeleteAgents)

	p.GET("/tasks", h.handleListTasks)
	p.GET("/tasks/stats", h.handleTaskStats)
	p.POST("/tasks/parse", h.handleParseTasks)
	p.POST("/tasks/stop", h.handleStopTasks)
	p.POST("/tasks/retry-failed", h.handleRetryFailed)

	p.GET("/system/health", h.handleSystemHealth)
	p.GET("/system/config", h.handleSystemConfig)

	return r
}
