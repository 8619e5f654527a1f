package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/config"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/models"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/services"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/utils"
	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/validator"
)

type HandlerManager struct {
	examHandler    *ExamHandler
	taskHandler    *TaskHandler
	userHandler    *UserHandler
	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger *utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		examHandler:    NewExamHandler(serviceManager.Exam(), validator, logger),
		taskHandler:    NewTaskHandler(serviceManager.Scheduler(), serviceManager.Grading(), validator, logger),
		userHandler:    NewUserHandler(userRepo, logger),
		authMiddleware: authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Exam routes - examinee side of the lifecycle
		exams := v1.Group("/exams")
		{
			exams.POST("/start", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.examHandler.StartExam)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.POST("/:id/begin", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.examHandler.BeginExam)
			exams.POST("/:id/answers", hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent), hm.examHandler.SubmitAnswers)

			// Task creation for the exam's subjective questions
			exams.POST("/:id/grading-request", hm.taskHandler.RequestGradingAssignment)
		}

		// Task routes - grader side of the lifecycle
		tasks := v1.Group("/tasks")
		tasks.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleGrader))
		{
			tasks.POST("/:id/start", hm.taskHandler.StartTask)
			tasks.POST("/:id/grades", hm.taskHandler.SubmitGrade)
			tasks.POST("/:id/complete", hm.taskHandler.CompleteGrading)
		}

		// Grader routes - queue visibility and availability
		graders := v1.Group("/graders")
		graders.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleGrader))
		{
			graders.GET("/:id/queue", hm.taskHandler.GetGraderQueue)
			graders.PUT("/:id/availability", hm.taskHandler.SetGraderAvailability)
		}

		// User routes (identity lookups)
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "evaluation-scheduler-service",
		})
	})
}
