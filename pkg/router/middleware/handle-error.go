package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	opserrors "github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/model/rest"
)

// HandleErrors renders the first error a handler attached via c.Error into
// the standard rest.Response envelope, logging any further ones as
// unexpected (a handler should stop at its first error).
func HandleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		for i := 1; i < len(c.Errors); i++ {
			log.Errorf("subsequent error %d on %s %s: %v", i, c.Request.Method, c.Request.URL.Path, c.Errors[i])
		}

		err := c.Errors[0].Err
		if opsErr, ok := err.(*opserrors.Error); ok {
			log.Errorf("request error: path=%s code=%d message=%s inner=%v",
				c.Request.URL.Path, opsErr.Code, opsErr.Message, opsErr.InnerError)
			c.AbortWithStatusJSON(http.StatusOK, rest.ErrorResp(opsErr.Code, opsErr.Message, nil))
			return
		}

		log.Errorf("request error: path=%s unwrapped error=%v", c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusOK, rest.ErrorResp(opserrors.InternalError, "internal error", nil))
	}
}
