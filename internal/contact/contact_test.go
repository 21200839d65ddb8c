package contact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	return &sesv2.SendEmailOutput{}, args.Error(0)
}

func validRequest() Request {
	return Request{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Company: "Analytical Engines",
		Subject: "Bulk purchase",
		Message: "We would like <b>500</b> tons.",
	}
}

func TestRequestValidate(t *testing.T) {
	req := Request{Email: "not-an-email", Message: strings.Repeat("x", maxMessageLength+1)}
	fields := req.Validate()

	var names []string
	for _, f := range fields {
		names = append(names, f.Field+":"+f.Code)
	}
	assert.ElementsMatch(t, []string{"name:required", "email:format", "subject:required", "message:max"}, names)

	ok := validRequest()
	ok.Company = ""
	assert.Empty(t, ok.Validate())
}

func TestSubmit_SendsThroughSES(t *testing.T) {
	ses := new(mockSES)
	ses.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		html := *in.Content.Simple.Body.Html.Data
		return *in.FromEmailAddress == `"C-Square" <noreply@csquare.io>` &&
			in.Destination.ToAddresses[0] == "team@csquare.io" &&
			in.ReplyToAddresses[0] == "ada@example.com" &&
			strings.Contains(html, "New contact form submission") &&
			strings.Contains(html, "&lt;b&gt;500&lt;/b&gt;") &&
			strings.Contains(html, "Analytical Engines")
	})).Return(nil)

	svc := NewService(NewSESMailer(ses, "noreply@csquare.io", "C-Square"), "team@csquare.io", zap.NewNop())
	require.NoError(t, svc.Submit(context.Background(), validRequest()))
	ses.AssertExpectations(t)
}

func TestSubmit_MailerFailure(t *testing.T) {
	ses := new(mockSES)
	ses.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("throttled"))
	svc := NewService(NewSESMailer(ses, "noreply@csquare.io", ""), "team@csquare.io", zap.NewNop())

	err := svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to send message")
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ses := new(mockSES)
	ses.On("SendEmail", mock.Anything, mock.Anything).Return(nil)
	h := NewHandler(NewService(NewSESMailer(ses, "noreply@csquare.io", ""), "team@csquare.io", zap.NewNop()), zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router.Group("/api"), func(c *gin.Context) { c.Next() })

	tests := []struct {
		name   string
		body   string
		status int
		expect string
	}{
		{"valid", `{"name":"Ada","email":"ada@example.com","subject":"Hi","message":"Hello"}`, http.StatusOK, `"success":true`},
		{"missing fields", `{"name":"Ada"}`, http.StatusBadRequest, `"fields"`},
		{"malformed", `{`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.expect)
		})
	}
}
