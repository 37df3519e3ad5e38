package controllers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cache"
	"github.com/gin-contrib/cache/persistence"
	"github.com/gin-gonic/gin"

	"github.com/blockpulse/blockpulse/db"
	"github.com/blockpulse/blockpulse/models"
	"github.com/blockpulse/blockpulse/stats"
)

// DefaultCacheTTL is how long read-path responses are memoized. Kept
// short: the data changes with every block.
const DefaultCacheTTL = time.Second

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type BlockController struct {
	store    *db.BlockStore
	agg      *stats.Aggregator
	cacheTTL time.Duration
}

func NewBlockController(store *db.BlockStore, agg *stats.Aggregator, cacheTTL time.Duration) *BlockController {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &BlockController{store: store, agg: agg, cacheTTL: cacheTTL}
}

func (bc *BlockController) RegisterRoutes(r *gin.Engine) {
	cacheStore := persistence.NewInMemoryStore(bc.cacheTTL)

	r.GET("/health", bc.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stats", cache.CachePage(cacheStore, bc.cacheTTL, bc.GetStats))
		v1.GET("/blocks/latest", cache.CachePage(cacheStore, bc.cacheTTL, bc.GetLatestBlocks))
		v1.GET("/blocks/:number", cache.CachePage(cacheStore, bc.cacheTTL, bc.GetBlock))
	}
}

func (bc *BlockController) HealthCheck(c *gin.Context) {
	if err := bc.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "Database connection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (bc *BlockController) GetStats(c *gin.Context) {
	snapshot := bc.agg.Snapshot()
	if snapshot == nil {
		// No block has been observed yet; serve an empty snapshot
		// rather than an error so dashboards can render.
		snapshot = &models.StatSnapshot{ComputedAt: time.Now().UTC()}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snapshot})
}

func (bc *BlockController) GetLatestBlocks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit < 1 || limit > maxPageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid offset"})
		return
	}

	blocks, err := bc.store.LatestBlocks(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch blocks"})
		return
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": blocks})
}

func (bc *BlockController) GetBlock(c *gin.Context) {
	number, err := strconv.ParseUint(c.Param("number"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid block number"})
		return
	}

	block, err := bc.store.BlockByNumber(number)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Block not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch block"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": block})
}
