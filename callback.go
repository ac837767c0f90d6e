package goidx

import "net/url"

// EmailVerifyCallback is the query payload of an email-verification
// callback link.
type EmailVerifyCallback struct {
	State string
	OTP   string
}

// IsEmailVerifyCallback reports whether the query string carries both the
// state and otp parameters of an email-verification callback.
func IsEmailVerifyCallback(query string) bool {
	cb, err := ParseEmailVerifyCallback(query)
	return err == nil && cb.State != "" && cb.OTP != ""
}

// ParseEmailVerifyCallback extracts the callback parameters from a raw
// query string. Missing parameters come back empty, not as an error.
func ParseEmailVerifyCallback(query string) (EmailVerifyCallback, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return EmailVerifyCallback{}, err
	}
	return EmailVerifyCallback{
		State: values.Get("state"),
		OTP:   values.Get("otp"),
	}, nil
}
