package response

import (
	"net/http"

	apperr "LifeSync/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: msg, Data: data})
}

func Created(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Code: 0, Message: msg, Data: data})
}

// Fail 参数错误
func Fail(c *gin.Context, msg string, data interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Code: apperr.CodeInvalidArgument, Message: msg, Data: data})
}

// Error 将领域错误映射为 HTTP 状态码
func Error(c *gin.Context, err error) {
	code := apperr.GetCode(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(code), Body{
		Code:    code,
		Message: err.Error(),
		Data:    gin.H{"error": apperr.CodeName(code)},
	})
}
