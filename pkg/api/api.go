// Package api exposes the bridge's operational HTTP endpoints.
package api

import (
	"context"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/claimbridge/claimbridge/pkg/bridge"
)

// HealthChecker reports whether a component is able to do its work.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider exposes processor counters.
type StatsProvider interface {
	Stats() bridge.Stats
}

// BlockTracker reports listener progress.
type BlockTracker interface {
	LastProcessedBlock() uint64
}

// BalanceReader exposes the oracle account balance.
type BalanceReader interface {
	ReadBalance(ctx context.Context) (*big.Int, error)
}

// NewV1API builds the operational router.
func NewV1API(lggr logger.Logger, health HealthChecker, stats StatsProvider, blocks BlockTracker, balance BalanceReader) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1Group := router.Group("/v1")

	v1Group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	v1Group.GET("/health", func(c *gin.Context) {
		if err := health.HealthCheck(c.Request.Context()); err != nil {
			lggr.Errorw("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusOK)
	})

	v1Group.GET("/stats", func(c *gin.Context) {
		body := gin.H{
			"stats":              stats.Stats(),
			"lastProcessedBlock": blocks.LastProcessedBlock(),
		}
		if wei, err := balance.ReadBalance(c.Request.Context()); err != nil {
			lggr.Warnw("failed to read oracle balance", "error", err)
		} else {
			body["oracleBalanceWei"] = wei.String()
		}
		c.JSON(http.StatusOK, body)
	})

	return router
}

// NewServer wraps the router in an http.Server so the caller controls
// shutdown.
func NewServer(address string, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:    address,
		Handler: router,
	}
}
