package bridge

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/mossy-p/huddle/internal/apperr"
)

// ok replies {success: true, ...data}.
func ok(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// fail replies {success: false, error, kind}. Failures are results, not
// HTTP errors, so the UI handles every outcome the same way.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    apperr.KindOf(err),
	})
}

// bind decodes and validates the JSON body, replying on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			err = errors.New(fe.Field() + " failed " + fe.Tag() + " validation")
		}
		fail(c, apperr.Validation("decode request", err))
		return false
	}
	return true
}
