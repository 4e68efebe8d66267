package server

import (
	"testing"

	"github.com/gin-gonic/gin"
)

type testReq struct {
	Name string `json:"name"`
}

type testResp struct{}

func TestValidateFunc(t *testing.T) {
	testCases := []struct {
		name    string
		fn      handleFunc
		wantErr bool
	}{
		{
			name:    "the interface is not function type",
			fn:      10,
			wantErr: true,
		},
		{
			name:    "nil handler",
			fn:      nil,
			wantErr: true,
		},
		{
			name:    "the first input parameter of the func isn't gin.Context type",
			fn:      func(i int) error { return nil },
			wantErr: true,
		},
		{
			name:    "the second input parameter of the func isn't a pointer type",
			fn:      func(c *gin.Context, r testReq) error { return nil },
			wantErr: true,
		},
		{
			name:    "the second input parameter of the func isn't a struct pointer",
			fn:      func(c *gin.Context, i *int) error { return nil },
			wantErr: true,
		},
		{
			name: "too many input parameters",
			fn: func(c *gin.Context, r *testReq, other *testReq) error {
				return nil
			},
			wantErr: true,
		},
		{
			name:    "missing return values",
			fn:      func(c *gin.Context, r *testReq) {},
			wantErr: true,
		},
		{
			name: "the last return value of the func must be an error type",
			fn: func(c *gin.Context, r *testReq) int {
				return 0
			},
			wantErr: true,
		},
		{
			name: "the first return value of the func must be a pointer",
			fn: func(c *gin.Context, r *testReq) (testResp, error) {
				return testResp{}, nil
			},
			wantErr: true,
		},
		{
			name: "one input parameter of the function",
			fn: func(c *gin.Context) error {
				return nil
			},
			wantErr: false,
		},
		{
			name: "one input parameter with a response",
			fn: func(c *gin.Context) (*testResp, error) {
				return nil, nil
			},
			wantErr: false,
		},
		{
			name: "two input parameters of the function",
			fn: func(c *gin.Context, r *testReq) (*testResp, error) {
				return nil, nil
			},
			wantErr: false,
		},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			if err := validateFunc(c.fn); (err != nil) != c.wantErr {
				t.Errorf("validate func return error = %v,"+
					" want error %v", err, c.wantErr)
			}
		})
	}
}
