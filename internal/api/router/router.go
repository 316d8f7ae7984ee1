package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/pixelforge/image-optimizer/internal/api/handlers/image"
	"github.com/pixelforge/image-optimizer/internal/middleware"
)

func Setup(h *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")

	api.POST("/upload", h.Upload)                             // uploading image
	api.GET("/image/:id", h.Get)                              // image metadata with derivative paths
	api.GET("/image/:id/derivative/:preset", h.GetDerivative) // derivative bytes
	api.POST("/image/:id/reprocess", h.Reprocess)             // background reprocessing
	api.DELETE("/image/:id", h.Delete)                        // deleting image by id
	api.POST("/optimize", h.OptimizeBatch)                    // synchronous batch optimization
	api.GET("/stats", h.Stats)                                // pipeline counters

	return r
}
