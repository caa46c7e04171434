package memstore

import (
	"fmt"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func errNotFound(id models.UserId) error {
	return engineerr.Validation(fmt.Sprintf("user %s not found", id), nil)
}

func errSessionNotFound(id models.UserId) error {
	return engineerr.New(engineerr.CodeValidation, "mining session not found", engineerr.ErrNoSession)
}

func errAlreadyReferred(id models.UserId) error {
	return engineerr.New(engineerr.CodeValidation, "user already has a referrer", engineerr.ErrAlreadyReferred)
}

func errCycle(id models.UserId) error {
	return engineerr.New(engineerr.CodeValidation, "referral would create a cycle", engineerr.ErrCycle)
}
