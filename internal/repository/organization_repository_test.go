package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func dupErr(msg string) error {
	return &mysql.MySQLError{Number: 1062, Message: msg}
}

func TestDupOrgKey(t *testing.T) {
	assert.ErrorIs(t, dupOrgKey(dupErr("Duplicate entry 'g1' for key 'organizations.guild_id'")), ErrGuildTaken)
	assert.ErrorIs(t, dupOrgKey(dupErr("Duplicate entry 'acm' for key 'organizations.prefix'")), ErrPrefixTaken)

	// Wrapped driver errors still classify.
	wrapped := fmt.Errorf("insert organization: %w", dupErr("Duplicate entry 'g1' for key 'organizations.guild_id'"))
	assert.ErrorIs(t, dupOrgKey(wrapped), ErrGuildTaken)

	assert.NoError(t, dupOrgKey(errors.New("connection reset")))
	assert.NoError(t, dupOrgKey(&mysql.MySQLError{Number: 1451, Message: "Cannot delete or update a parent row"}))
	assert.NoError(t, dupOrgKey(nil))
}
