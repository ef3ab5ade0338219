package server

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/server/config"
	"github.com/stretchr/testify/assert"
)

func TestNewApp_RefusesIncompleteConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	_, err := NewApp(context.Background(), cfg)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
