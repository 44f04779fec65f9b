package config

import (
	"time"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/proxy"
	"github.com/commune-sh/public-appservice/internal/service"
)

func (c Config) SyncRules() service.SyncRules {
	return service.SyncRules{
		ServerName:          c.Matrix.ServerName,
		AutoJoin:            c.Appservice.Rules.AutoJoin,
		InviteByLocalUser:   c.Appservice.Rules.InviteByLocalUser,
		FederationWhitelist: c.Appservice.Rules.FederationDomainWhitelist,
		AutoJoinDelay:       service.DefaultAutoJoinDelay,
		JoinedTTL:           c.Cache.JoinedRooms.TTL(),
	}
}

func (c Config) DirectoryOptions() service.DirectoryOptions {
	return service.DirectoryOptions{
		ServerName:             c.Matrix.ServerName,
		Curated:                c.PublicRooms.Curated,
		IncludeRooms:           c.PublicRooms.IncludeRooms,
		DefaultSpaces:          c.Spaces.Default,
		IncludeAllJoinedSpaces: c.Spaces.IncludeAllJoined,
		PublicRooms:            policy(c.Cache.PublicRooms),
		RoomState:              policy(c.Cache.RoomState),
		Spaces: service.CachePolicy{
			Enabled: c.Spaces.Cache,
			TTL:     time.Duration(c.Spaces.TTL) * time.Second,
		},
		FanOut: service.DefaultFanOut,
	}
}

func (c Config) JoinedCache() service.CachePolicy {
	return policy(c.Cache.JoinedRooms)
}

func (c Config) ProxyPolicy() proxy.Policy {
	return proxy.Policy{
		Enabled:   c.Cache.Requests.Enabled,
		TTL:       c.Cache.Requests.TTL(),
		RoomState: c.Cache.RoomState.Enabled,
		Messages:  c.Cache.Messages.Enabled,
		Generic:   c.Cache.Generic.Enabled,
		Search:    c.Cache.Search.Enabled && !c.Search.Disabled,
		SearchTTL: c.Cache.Search.TTL(),
	}
}

func (c Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{
		Addr:     c.Redis.URL,
		PoolSize: c.Redis.PoolSize,
		Timeout:  c.Redis.Timeout(),
	}
}

func policy(o CacheOptions) service.CachePolicy {
	return service.CachePolicy{Enabled: o.Enabled, TTL: o.TTL()}
}
