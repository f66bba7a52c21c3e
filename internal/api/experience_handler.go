package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/loci-palace/internal/anchor"
	"github.com/wfunc/loci-palace/internal/experience"
	"go.uber.org/zap"
)

// ExperienceHandler 体验存档处理器
type ExperienceHandler struct {
	store     experience.Store
	platform  anchor.Platform
	anchorCfg anchor.Config
	log       *zap.Logger
}

// NewExperienceHandler 创建体验存档处理器
func NewExperienceHandler(store experience.Store, platform anchor.Platform, anchorCfg anchor.Config, log *zap.Logger) *ExperienceHandler {
	return &ExperienceHandler{
		store:     store,
		platform:  platform,
		anchorCfg: anchorCfg,
		log:       log,
	}
}

// ListExperiences 列出所有已保存的体验存档键
func (h *ExperienceHandler) ListExperiences(c *gin.Context) {
	keys, err := h.store.Keys()
	if err != nil {
		h.log.Error("读取体验存档失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "EXPERIENCE_LIST_FAILED",
			Message: "读取体验存档失败",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiences": keys})
}

// EraseExperiences 抹除所有体验：平台侧锚点逐体验擦除，存档一并删光
func (h *ExperienceHandler) EraseExperiences(c *gin.Context) {
	err := anchor.EraseAllExperiences(c.Request.Context(), h.platform, h.store, h.anchorCfg, h.log)
	if err != nil {
		h.log.Error("抹除体验失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "EXPERIENCE_ERASE_FAILED",
			Message: "抹除体验失败",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "体验存档已抹除"})
}
