package events

import "outline-manager/internal/domain"

type Type string

const (
	TypeServerAdded                  Type = "server_added"
	TypeServerRenamed                Type = "server_renamed"
	TypeServerForgotten              Type = "server_forgotten"
	TypeServerForgetUndone           Type = "server_forget_undone"
	TypeServerConnected              Type = "server_connected"
	TypeServerDisconnected           Type = "server_disconnected"
	TypeServerReconnecting           Type = "server_reconnecting"
	TypeServerConfigSourceURLChanged Type = "server_config_source_url_changed"
)

// Event is a domain event about one server.
type Event interface {
	Type() Type
	Server() domain.Server
}

type base struct {
	server domain.Server
}

func (b base) Server() domain.Server { return b.server }

type ServerAdded struct{ base }

func NewServerAdded(s domain.Server) ServerAdded { return ServerAdded{base{s}} }

func (ServerAdded) Type() Type { return TypeServerAdded }

type ServerRenamed struct{ base }

func NewServerRenamed(s domain.Server) ServerRenamed { return ServerRenamed{base{s}} }

func (ServerRenamed) Type() Type { return TypeServerRenamed }

type ServerForgotten struct{ base }

func NewServerForgotten(s domain.Server) ServerForgotten { return ServerForgotten{base{s}} }

func (ServerForgotten) Type() Type { return TypeServerForgotten }

type ServerForgetUndone struct{ base }

func NewServerForgetUndone(s domain.Server) ServerForgetUndone { return ServerForgetUndone{base{s}} }

func (ServerForgetUndone) Type() Type { return TypeServerForgetUndone }

type ServerConnected struct{ base }

func NewServerConnected(s domain.Server) ServerConnected { return ServerConnected{base{s}} }

func (ServerConnected) Type() Type { return TypeServerConnected }

type ServerDisconnected struct{ base }

func NewServerDisconnected(s domain.Server) ServerDisconnected { return ServerDisconnected{base{s}} }

func (ServerDisconnected) Type() Type { return TypeServerDisconnected }

type ServerReconnecting struct{ base }

func NewServerReconnecting(s domain.Server) ServerReconnecting { return ServerReconnecting{base{s}} }

func (ServerReconnecting) Type() Type { return TypeServerReconnecting }

// ServerConfigSourceURLChanged reports the new location of a server's
// dynamic config.
type ServerConfigSourceURLChanged struct {
	base
	URL string
}

func NewServerConfigSourceURLChanged(s domain.Server, url string) ServerConfigSourceURLChanged {
	return ServerConfigSourceURLChanged{base: base{s}, URL: url}
}

func (ServerConfigSourceURLChanged) Type() Type { return TypeServerConfigSourceURLChanged }
