package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/quizjobs/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	service := deps.ServiceName
	if service == "" {
		service = "job-api-service"
	}
	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if failed := deps.Health.Health(c.Request.Context()); len(failed) > 0 {
				checks := make(map[string]string, len(failed))
				for name, err := range failed {
					checks[name] = err.Error()
				}
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": service,
					"checks":  checks,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		v1.PUT("/quizzes/:quiz_id", jobHandler.PutQuiz)
	}

	return r
}
