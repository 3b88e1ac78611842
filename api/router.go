// Package api assembles the HTTP surface: middleware, REST routes, the
// notification stream and the operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/connectsphere/server/api/rest"
	"github.com/connectsphere/server/api/sse"
	"github.com/connectsphere/server/audit"
	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	"github.com/connectsphere/server/connection"
	mw "github.com/connectsphere/server/middleware"
	"github.com/connectsphere/server/notify"
	"github.com/connectsphere/server/post"
	"github.com/connectsphere/server/scheduler"
	"github.com/connectsphere/server/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps is everything the router needs. main.go and the integration
// harness build it the same way.
type Deps struct {
	DB            *gorm.DB
	Cache         cache.Cache
	PubSub        cache.PubSub
	Users         *users.Directory
	Connections   *connection.Service
	Notifications *notify.Service
	Posts         *post.Service
	Audit         *audit.Service
	Scheduler     *scheduler.Scheduler
	Server        config.ServerConfig
	Security      config.SecurityConfig
	Notify        config.NotifyConfig
	ServiceName   string
	Logger        *zap.Logger
}

// NewRouter builds the gin engine. ctx bounds the lifetime of background
// helpers such as the rate limiter cleanup.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	rest.RegisterValidators()

	r := gin.New()
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(mw.TraceID(), mw.Logger(d.Logger), mw.Recovery(d.Logger), mw.Metrics())
	if d.Security.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(ctx, rate.Limit(d.Security.RateLimitRPS), d.Security.RateLimitBurst))
	}

	r.GET("/health", health(d.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authH := rest.NewAuthHandler(d.DB, d.Cache, d.Security, d.Audit, d.Logger)
	userH := rest.NewUserHandler(d.Users, d.Connections, d.Logger)
	connH := rest.NewConnectionHandler(d.Connections, d.Audit, d.Logger)
	notifH := rest.NewNotificationHandler(d.Notifications, d.Logger)
	postH := rest.NewPostHandler(d.Posts, d.Logger)
	streamH := sse.NewHandler(d.PubSub, d.Notifications, d.Notify.StreamHeartbeat, d.Logger)
	adminH := rest.NewAdminHandler(d.DB, d.Cache, d.Connections, d.Scheduler, d.Audit, streamH, d.Logger)

	auth := mw.Auth(d.Security, d.Cache)

	v1 := r.Group("/api/v1")
	{
		authG := v1.Group("/auth")
		authG.POST("/signup", authH.Signup)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		usersG := v1.Group("/users", auth)
		usersG.GET("/profile", userH.Profile)
		usersG.PUT("/profile", userH.UpdateProfile)
		usersG.GET("/search", userH.Search)
		usersG.GET("/:userId", userH.Get)

		connG := v1.Group("/connections", auth)
		connG.POST("/request", connH.SendRequest)
		connG.POST("/request/:id/respond", connH.Respond)
		connG.GET("/friends", connH.Friends)
		connG.GET("/friends/:userId", connH.Friends)
		connG.GET("/pending", connH.Pending)
		connG.GET("/status/:userId", connH.Status)
		connG.POST("/block/:userId", connH.Block)
		connG.DELETE("/block/:userId", connH.Unblock)

		// The stream sits outside the group so EventSource clients can
		// authenticate with ?token=.
		v1.GET("/notifications/stream", mw.StreamAuth(d.Security, d.Cache), streamH.Stream)
		notifG := v1.Group("/notifications", auth)
		notifG.GET("", notifH.List)
		notifG.GET("/unread-count", notifH.UnreadCount)
		notifG.POST("/mark-all-read", notifH.MarkAllRead)
		notifG.PATCH("/:id", notifH.MarkRead)
		notifG.DELETE("/:id", notifH.Delete)

		postG := v1.Group("/posts", auth)
		postG.POST("", postH.Create)
		postG.GET("", postH.Feed)
		postG.GET("/user/:userId", postH.UserPosts)
		postG.GET("/:postId", postH.Get)
		postG.PUT("/:postId", postH.Update)
		postG.DELETE("/:postId", postH.Delete)
		postG.POST("/:postId/like", postH.Like)
		postG.POST("/:postId/unlike", postH.Unlike)

		commentG := v1.Group("/comments", auth)
		commentG.POST("/:postId", postH.AddComment)
		commentG.GET("/:postId", postH.Comments)
		commentG.PUT("/:commentId", postH.UpdateComment)
		commentG.DELETE("/:commentId", postH.DeleteComment)

		adminG := v1.Group("/admin", mw.IPWhitelist(d.Server.AdminIPs), rest.AdminAuth(d.Server.AdminKey))
		adminG.GET("/stats", adminH.Stats)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.GET("/users/:id/audit", adminH.AuditTrail)
		adminG.POST("/announce", adminH.Announce)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "fail", "message": "Route not found"})
	})
	return r
}

func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
