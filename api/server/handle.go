package server

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/api/service"
)

// handleFunc is one of
//
//	func(*gin.Context) error
//	func(*gin.Context) (resp, error)
//	func(*gin.Context, *req) error
//	func(*gin.Context, *req) (resp, error)
type handleFunc interface{}

// statusCoder lets a response choose a status other than 200.
type statusCoder interface {
	StatusCode() int
}

var (
	ginContextType = reflect.TypeOf(&gin.Context{})
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

func validateFunc(fn handleFunc) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return errors.New("the handler must be a function")
	}

	if t.NumIn() < 1 || t.NumIn() > 2 {
		return errors.New("the handler takes a gin context and an optional request")
	}
	if t.In(0) != ginContextType {
		return errors.New("the first input parameter must be *gin.Context")
	}
	if t.NumIn() == 2 &&
		(t.In(1).Kind() != reflect.Ptr || t.In(1).Elem().Kind() != reflect.Struct) {
		return errors.New("the request parameter must be a pointer to a struct")
	}

	if t.NumOut() < 1 || t.NumOut() > 2 {
		return errors.New("the handler returns an optional response and an error")
	}
	if t.Out(t.NumOut()-1) != errorType {
		return errors.New("the last return value must be an error")
	}
	if t.NumOut() == 2 && t.Out(0).Kind() != reflect.Ptr {
		return errors.New("the response must be a pointer")
	}

	return nil
}

// handle adapts fn to gin. Requests are bound from the uri, the query
// and a json body, then validated. Errors are left on the context for
// handleError.
func (s *Server) handle(fn handleFunc) gin.HandlerFunc {
	if err := validateFunc(fn); err != nil {
		panic(err)
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	return func(c *gin.Context) {
		args := []reflect.Value{reflect.ValueOf(c)}
		if t.NumIn() == 2 {
			req := reflect.New(t.In(1).Elem())
			if err := bindRequest(c, req.Interface()); err != nil {
				_ = c.Error(err)
				return
			}
			args = append(args, req)
		}

		out := v.Call(args)
		if errV := out[len(out)-1]; !errV.IsNil() {
			_ = c.Error(errV.Interface().(error))
			return
		}

		if len(out) == 1 {
			c.Status(http.StatusNoContent)
			return
		}

		resp := out[0].Interface()
		status := http.StatusOK
		if sc, ok := resp.(statusCoder); ok && !out[0].IsNil() {
			status = sc.StatusCode()
		}
		c.JSON(status, resp)
	}
}

func bindRequest(c *gin.Context, req interface{}) error {
	if len(c.Params) > 0 {
		params := make(map[string][]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = []string{p.Value}
		}
		if err := binding.MapFormWithTag(req, params, "uri"); err != nil {
			return service.InvalidRequest(err)
		}
	}

	if query := c.Request.URL.Query(); len(query) > 0 {
		if err := binding.MapFormWithTag(req, query, "form"); err != nil {
			return service.InvalidRequest(err)
		}
	}

	if c.Request.Method != http.MethodGet && c.Request.Body != nil {
		if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil && err != io.EOF {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return err
			}
			return service.InvalidRequest(err)
		}
	}

	if err := binding.Validator.ValidateStruct(req); err != nil {
		return service.InvalidRequest(err)
	}

	return nil
}

func handleError() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, body := service.ErrorResponse(err)
		if status >= http.StatusInternalServerError {
			log.Error("handle request failed",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
		}
		c.AbortWithStatusJSON(status, body)
	}
}

func recovery(c *gin.Context, recovered interface{}) {
	log.Error("handle request panicked",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"panic", recovered,
	)
	status, body := service.ErrorResponse(errors.Errorf("panic: %v", recovered))
	c.AbortWithStatusJSON(status, body)
}
