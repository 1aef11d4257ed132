// Package router wires the handlers onto the Echo instance and applies
// the authorization gates per route group.
package router

import (
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/clubsync/clubsync/internal/config"
	"github.com/clubsync/clubsync/internal/handler"
	"github.com/clubsync/clubsync/internal/middleware"
)

// Handlers bundles every handler the router mounts.
type Handlers struct {
	Auth       *handler.AuthHandler
	Points     *handler.PointsHandler
	Storefront *handler.StorefrontHandler
	Orgs       *handler.OrgHandler
	Superadmin *handler.SuperadminHandler
	Users      *handler.UserHandler
	Public     *handler.PublicHandler
	Calendar   *handler.CalendarHandler
	Bot        *handler.BotHandler
}

// Register sets up global middleware and every route group.
func Register(e *echo.Echo, h Handlers, authn *middleware.Authenticator, cfg config.Config, rlCfg config.RateLimitConfig, rdb *redis.Client, sentryEnabled bool) {
	e.Use(echomw.Recover())
	if sentryEnabled {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.ClientURL},
		AllowCredentials: true,
	}))
	e.Use(authn.Resolve())
	e.Use(middleware.NewTokenBucket(rlCfg, rdb))

	// public surface
	e.GET("/health", h.Public.Health)
	e.GET("/api/public/health", h.Public.Health)
	e.GET("/api/public/organizations", h.Orgs.List)
	e.GET("/api/public/organizations/:prefix", h.Orgs.Get)
	e.GET("/api/public/leaderboard/:prefix", h.Points.Leaderboard, authn.ResolveOrg())

	// auth: login flow is unauthenticated, the rest needs a principal
	authGroup := e.Group("/api/auth")
	authGroup.GET("/login", h.Auth.Login)
	authGroup.GET("/callback", h.Auth.Callback)
	authGroup.POST("/refresh", h.Auth.Refresh)
	authGroup.POST("/logout", h.Auth.Logout)
	authGroup.GET("/validateToken", h.Auth.Validate, authn.RequireAuth())
	authGroup.POST("/apptoken", h.Auth.AppToken, authn.RequireSuperadmin())

	// points: the leaderboard is tenant-scoped but public; identifiers
	// degrade to opaque UUIDs for anonymous callers
	points := e.Group("/api/points/:prefix")
	points.GET("/leaderboard", h.Points.Leaderboard, authn.ResolveOrg())
	points.GET("/me", h.Points.Me, authn.RequireMember())
	points.POST("/award", h.Points.Award, authn.RequireOfficer())
	points.POST("/bulk", h.Points.BulkAward, authn.RequireOfficer())
	points.GET("/entries", h.Points.Entries, authn.RequireOfficer())

	// storefront
	store := e.Group("/api/storefront/:prefix")
	store.GET("/products", h.Storefront.ListProducts, authn.RequireMember())
	store.POST("/products", h.Storefront.CreateProduct, authn.RequireOfficer())
	store.PUT("/products/:id", h.Storefront.UpdateProduct, authn.RequireOfficer())
	store.DELETE("/products/:id", h.Storefront.DeleteProduct, authn.RequireOfficer())
	store.POST("/purchase", h.Storefront.Purchase, authn.RequireMember())
	store.GET("/orders", h.Storefront.ListOrders, authn.RequireOfficer())
	store.GET("/orders/me", h.Storefront.MyOrders, authn.RequireMember())
	store.PUT("/orders/:id/status", h.Storefront.UpdateOrderStatus, authn.RequireOfficer())
	store.DELETE("/orders/:id", h.Storefront.DeleteOrder, authn.RequireOfficer())

	// organizations
	orgs := e.Group("/api/organizations/:prefix")
	orgs.POST("/join", h.Orgs.Join, authn.RequireMember())
	orgs.POST("/leave", h.Orgs.Leave, authn.RequireMember())
	orgs.GET("/members", h.Orgs.Members, authn.RequireOfficer())
	orgs.PUT("/config", h.Orgs.UpdateConfig, authn.RequireOfficer())

	// superadmin
	admin := e.Group("/api/superadmin", authn.RequireSuperadmin())
	admin.GET("/check", h.Superadmin.Check)
	admin.GET("/dashboard", h.Superadmin.Dashboard)
	admin.POST("/organizations", h.Superadmin.CreateOrg)
	admin.PUT("/organizations/:id", h.Superadmin.UpdateOrg)
	admin.PUT("/organizations/:id/active", h.Superadmin.ToggleOrg)
	admin.DELETE("/organizations/:id", h.Superadmin.DeleteOrg)

	// users
	e.GET("/api/users/me", h.Users.Me, authn.RequireAnyMember())
	e.GET("/api/users/:discordID", h.Users.ByDiscordID, authn.RequireAnyMember())

	// calendar
	cal := e.Group("/api/calendar", authn.RequireSuperadmin())
	cal.POST("/sync", h.Calendar.Sync)
	cal.GET("/status", h.Calendar.Status)

	// bot callbacks, app-token gated
	e.POST("/api/bot/role-change", h.Bot.RoleChange, authn.RequireApp())
}
