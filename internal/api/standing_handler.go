package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/loci-palace/internal/repository"
	"go.uber.org/zap"
)

// StandingHandler 全局排行榜处理器，直接读库
type StandingHandler struct {
	standings repository.StandingRepository
	log       *zap.Logger
}

// NewStandingHandler 创建排行榜处理器
func NewStandingHandler(standings repository.StandingRepository, log *zap.Logger) *StandingHandler {
	return &StandingHandler{
		standings: standings,
		log:       log,
	}
}

// List 分页查询排行榜，按得分降序
func (h *StandingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	pagination := repository.NewPagination(page, pageSize)

	standings, err := h.standings.List(c.Request.Context(), pagination)
	if err != nil {
		h.log.Error("查询排行榜失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STANDINGS_FAILED",
			Message: "查询排行榜失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"standings": standings,
		"page":      pagination.Page,
		"page_size": pagination.PageSize,
		"total":     pagination.Total,
	})
}

// DeleteStanding 删除某个用户的排行榜记录
func (h *StandingHandler) DeleteStanding(c *gin.Context) {
	username := c.Param("username")
	if err := h.standings.Delete(c.Request.Context(), username); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STANDING_DELETE_FAILED",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "排行榜记录已删除"})
}
