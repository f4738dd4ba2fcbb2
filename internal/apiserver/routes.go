package apiserver

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every engine endpoint under rg, grounded on
// services/trace/handlers.go's router.Group("/v1") +
// RegisterRoutes(group, handlers) registration style.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	users := rg.Group("/users/:user")
	users.POST("/run", h.HandleRunLoop)
	users.POST("/ingest/:vendor", h.HandleIngest)
	users.POST("/providers/:provider/sync", h.HandleSyncProvider)
	users.GET("/insights", h.HandleListInsights)
	users.GET("/drivers", h.HandleListDrivers)
	users.GET("/narratives", h.HandleGetNarratives)
	users.GET("/trust", h.HandleGetTrust)

	experiments := users.Group("/experiments")
	experiments.POST("", h.HandleCreateExperiment)
	experiments.POST("/:id/stop", h.HandleStopExperiment)
	experiments.POST("/:id/evaluate", h.HandleEvaluateExperiment)

	rg.GET("/entities/:type/:id/explain", h.HandleExplain)
}
