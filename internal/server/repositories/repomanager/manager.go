package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/securechat/internal/dbx"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/groups"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/securechat/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so that callers can
// run several of them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Messages(db dbx.DBTX) messages.Repository
	Groups(db dbx.DBTX) groups.Repository
	Contacts(db dbx.DBTX) contacts.Repository
}
