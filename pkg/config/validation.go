package config

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// Role values accepted in user data
const (
	RoleMaster = "master"
	RoleWorker = "worker"
)

// FieldError describes a single invalid configuration value
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (fe FieldError) Error() string {
	if fe.Field == "" {
		return fe.Message
	}
	return fmt.Sprintf("field '%s': %s", fe.Field, fe.Message)
}

// ValidationError is returned when the configuration violates its schema.
// It aborts bootstrap before any persistent data is consulted.
type ValidationError struct {
	Errors *multierror.Error
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if ve.Errors == nil || len(ve.Errors.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(ve.Errors.Errors) == 1 {
		return "configuration validation failed: " + ve.Errors.Errors[0].Error()
	}
	return fmt.Sprintf("configuration validation failed: %d errors: %s (and %d more)",
		len(ve.Errors.Errors), ve.Errors.Errors[0].Error(), len(ve.Errors.Errors)-1)
}

// Unwrap exposes the individual field errors
func (ve *ValidationError) Unwrap() []error {
	if ve.Errors == nil {
		return nil
	}
	return ve.Errors.Errors
}

// Fields returns the invalid field names in the order they were found
func (ve *ValidationError) Fields() []string {
	if ve.Errors == nil {
		return nil
	}
	var fields []string
	for _, err := range ve.Errors.Errors {
		if fe, ok := err.(FieldError); ok {
			fields = append(fields, fe.Field)
		}
	}
	return fields
}

// Validate checks the keys this node reads. It returns nil or a
// *ValidationError listing every problem.
func (c *Configuration) Validate() error {
	var result *multierror.Error

	if v, ok := c.Get(KeyRole); ok {
		s, isString := v.(string)
		if !isString || (s != RoleMaster && s != RoleWorker) {
			result = multierror.Append(result, FieldError{
				Field:   KeyRole,
				Value:   v,
				Message: fmt.Sprintf("must be %q or %q", RoleMaster, RoleWorker),
			})
		}
	}

	for _, key := range []string{KeyUseObjectStore, KeyUseVolumes} {
		if v, ok := c.Get(key); ok && !isBoolLike(v) {
			result = multierror.Append(result, FieldError{
				Field:   key,
				Value:   v,
				Message: "must be a boolean",
			})
		}
	}

	if v, ok := c.Get(KeyBucketCluster); ok {
		if s, isString := v.(string); !isString || s == "" {
			result = multierror.Append(result, FieldError{
				Field:   KeyBucketCluster,
				Value:   v,
				Message: "must be a non-empty string",
			})
		}
	}

	for _, key := range []string{KeyAccessKey, KeySecretKey, KeyCloudType, KeyRegion, KeyS3Endpoint, KeyCoordinatorAddr} {
		if v, ok := c.Get(key); ok {
			if _, isString := v.(string); !isString {
				result = multierror.Append(result, FieldError{
					Field:   key,
					Value:   v,
					Message: "must be a string",
				})
			}
		}
	}

	if v, ok := c.Get(KeyDeploymentVersion); ok {
		if _, isInt := ToInt(v); !isInt {
			result = multierror.Append(result, FieldError{
				Field:   KeyDeploymentVersion,
				Value:   v,
				Message: "must be an integer",
			})
		}
	}

	if result.ErrorOrNil() == nil {
		return nil
	}
	return &ValidationError{Errors: result}
}

func isBoolLike(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return true
	case string:
		_, err := strconv.ParseBool(t)
		return err == nil
	default:
		return false
	}
}
