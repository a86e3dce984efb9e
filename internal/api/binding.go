package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// strictJSON is gin's JSON binding with unknown fields rejected, scoped to
// this package's handlers instead of gin's process-wide decoder flag
type strictJSON struct{}

func (strictJSON) Name() string {
	return "json"
}

func (strictJSON) Bind(req *http.Request, obj interface{}) error {
	if req == nil || req.Body == nil {
		return errors.New("invalid request")
	}
	decoder := json.NewDecoder(req.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(obj); err != nil {
		return err
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(obj)
}

func bindJSON(c *gin.Context, obj interface{}) error {
	return c.ShouldBindWith(obj, strictJSON{})
}
