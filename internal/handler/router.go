package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/models"
)

// Handlers groups every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Auth        *AuthHandler
	Students    *StudentHandler
	Classes     *ClassHandler
	Enrollments *EnrollmentHandler
	Checkout    *CheckoutHandler
	Payments    *PaymentHandler
	Attendance  *AttendanceHandler
	Webhooks    *WebhookHandler
	Metrics     *MetricsHandler
	Users       *UserHandler
}

// RouterDeps carries the cross-cutting collaborators of the route table.
type RouterDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

var (
	staffRoles   = []string{string(models.RoleAdmin), string(models.RoleStaff)}
	teacherRoles = []string{string(models.RoleAdmin), string(models.RoleStaff), string(models.RoleTeacher)}
)

func withSelf(roles []string) []string {
	return append(append([]string{}, roles...), middleware.SelfStudent)
}

// RegisterRoutes mounts probes at the root and the API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, deps RouterDeps) {
	if h.Metrics != nil {
		r.GET("/health", h.Metrics.Health)
		r.GET("/ready", h.Metrics.Ready)
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource)
	}
	staff := middleware.RBAC(staffRoles...)

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.POST("/webhooks/gateway", h.Webhooks.Gateway)
	api.GET("/checkout/callback", h.Checkout.Callback)
	api.GET("/classes", h.Classes.List)
	api.GET("/classes/:id", h.Classes.Get)
	api.POST("/students", audit("STUDENT_SIGNUP", "students"), h.Students.Create)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))

	secured.POST("/auth/logout", h.Auth.Logout)
	secured.POST("/auth/change-password", h.Auth.ChangePassword)
	secured.GET("/auth/me", h.Auth.Me)

	secured.POST("/checkout", middleware.RBAC(string(models.RoleAdmin), string(models.RoleStaff), string(models.RoleStudent)), h.Checkout.Checkout)

	students := secured.Group("/students")
	students.GET("", staff, h.Students.List)
	students.GET("/:id", middleware.RBAC(withSelf(staffRoles)...), h.Students.Get)
	students.PUT("/:id", staff, audit("STUDENT_UPDATE", "students"), h.Students.Update)
	students.DELETE("/:id", staff, audit("STUDENT_DEACTIVATE", "students"), h.Students.Delete)
	students.POST("/:id/gateway-customer", staff, audit("STUDENT_GATEWAY_CUSTOMER", "students"), h.Students.EnsureCustomer)
	students.GET("/:id/payments", middleware.RBAC(withSelf(staffRoles)...), h.Payments.ListForStudent)
	students.GET("/:id/attendance", middleware.RBAC(withSelf(teacherRoles)...), h.Attendance.StudentSummary)

	classes := secured.Group("/classes")
	classes.POST("", staff, audit("CLASS_CREATE", "classes"), h.Classes.Create)
	classes.PUT("/:id", staff, audit("CLASS_UPDATE", "classes"), h.Classes.Update)
	classes.DELETE("/:id", staff, audit("CLASS_DEACTIVATE", "classes"), h.Classes.Delete)
	classes.GET("/:id/roster", middleware.RBAC(teacherRoles...), h.Classes.Roster)
	classes.GET("/:id/attendance", middleware.RBAC(teacherRoles...), h.Attendance.ClassReport)

	enrollments := secured.Group("/enrollments", staff)
	enrollments.GET("", h.Enrollments.List)
	enrollments.GET("/:id", h.Enrollments.Get)
	enrollments.POST("", audit("ENROLLMENT_CASH", "enrollments"), h.Enrollments.Create)
	enrollments.POST("/:id/activate", audit("ENROLLMENT_ACTIVATE", "enrollments"), h.Enrollments.Activate)
	enrollments.PATCH("/:id/active", audit("ENROLLMENT_SET_ACTIVE", "enrollments"), h.Enrollments.SetActive)

	payments := secured.Group("/payments", staff)
	payments.GET("", h.Payments.List)
	payments.GET("/export", h.Payments.Export)
	payments.GET("/:id", h.Payments.Get)
	payments.POST("", audit("PAYMENT_CREATE", "payments"), h.Payments.Create)
	payments.POST("/:id/pay", audit("PAYMENT_MARK_PAID", "payments"), h.Payments.MarkPaid)
	payments.POST("/:id/cancel", audit("PAYMENT_CANCEL", "payments"), h.Payments.Cancel)

	attendance := secured.Group("/attendance", middleware.RBAC(teacherRoles...))
	attendance.POST("", h.Attendance.Mark)
	attendance.POST("/bulk", h.Attendance.BulkMark)

	if h.Users != nil {
		users := secured.Group("/users", middleware.RBAC(string(models.RoleAdmin)))
		users.GET("", h.Users.List)
		users.GET("/:id", h.Users.Get)
		users.POST("", h.Users.Create)
		users.PUT("/:id", h.Users.Update)
		users.DELETE("/:id", h.Users.Delete)
	}
}
