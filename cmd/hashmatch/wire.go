//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"hashmatch/internal/biz"
	"hashmatch/internal/conf"
	"hashmatch/internal/data"
	"hashmatch/internal/server"
	"hashmatch/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap), "Server", "Data"),
		server.ProviderSet, data.ProviderSet, biz.ProviderSet, service.ProviderSet, newApp,
	))
}

// wireAdmin builds the components one-shot commands need, without servers.
func wireAdmin(*conf.Bootstrap, log.Logger) (*service.AdminService, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap), "Data"),
		data.ProviderSet, biz.ProviderSet, service.ProviderSet,
	))
}
