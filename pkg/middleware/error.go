package middleware

import (
	"net/http"

	"affiliate-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v)
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    errutil.StatusInternal,
			"message": "internal server error",
		})
	}
}
