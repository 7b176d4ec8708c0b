// Package routemgr is a standalone directory mapping identities (users and
// typed server instances) to link ids. Higher layers consult it to target
// broadcasts; it has no reactor dependency.
package routemgr

import (
	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

type (
	RouteMap     = map[netmsg.RouteID]netmsg.LinkID
	linkRouteMap = map[netmsg.LinkID]map[netmsg.RouteID]struct{}
	userMap      = map[netmsg.UserID]netmsg.LinkID
	linkUserMap  = map[netmsg.LinkID]map[netmsg.UserID]struct{}
)

// RouteMgr keeps forward and reverse indices so removing a link prunes every
// entry in one pass.
type RouteMgr struct {
	routeLinks    linkRouteMap
	routes        RouteMap
	userLinks     linkUserMap
	users         userMap
	serverTypes   map[netmsg.ServerType]RouteMap
	serverTypeIDs map[netmsg.RouteID]RouteMap
}

func New() *RouteMgr {
	m := &RouteMgr{}
	m.Clear()
	return m
}

func (m *RouteMgr) Clear() {
	m.routeLinks = make(linkRouteMap)
	m.routes = make(RouteMap)
	m.userLinks = make(linkUserMap)
	m.users = make(userMap)
	m.serverTypes = make(map[netmsg.ServerType]RouteMap)
	m.serverTypeIDs = make(map[netmsg.RouteID]RouteMap)
}

// AddRouteByUser is non-idempotent: a second insert of the same user fails
// with LinkRouteExist.
func (m *RouteMgr) AddRouteByUser(userID netmsg.UserID, linkID netmsg.LinkID) error {
	if _, exists := m.users[userID]; exists {
		return neterr.LinkRouteExist
	}
	users := m.userLinks[linkID]
	if users == nil {
		users = make(map[netmsg.UserID]struct{})
		m.userLinks[linkID] = users
	}
	users[userID] = struct{}{}
	m.users[userID] = linkID
	return nil
}

// AddRouteByServer indexes a server identity under its full route id, its
// type, and its (type, id) pair.
func (m *RouteMgr) AddRouteByServer(st netmsg.ServerType, sid netmsg.ServerID, idx netmsg.ServerIndex, linkID netmsg.LinkID) error {
	routeID := netmsg.MakeRouteID(st, sid, idx)
	if _, exists := m.routes[routeID]; exists {
		return neterr.LinkRouteExist
	}
	routes := m.routeLinks[linkID]
	if routes == nil {
		routes = make(map[netmsg.RouteID]struct{})
		m.routeLinks[linkID] = routes
	}
	routes[routeID] = struct{}{}
	m.routes[routeID] = linkID

	byType := m.serverTypes[st]
	if byType == nil {
		byType = make(RouteMap)
		m.serverTypes[st] = byType
	}
	byType[routeID] = linkID

	serverTypeID := routeID >> 16
	byTypeID := m.serverTypeIDs[serverTypeID]
	if byTypeID == nil {
		byTypeID = make(RouteMap)
		m.serverTypeIDs[serverTypeID] = byTypeID
	}
	byTypeID[routeID] = linkID
	return nil
}

// RemoveRoute prunes every index entry belonging to linkID.
func (m *RouteMgr) RemoveRoute(linkID netmsg.LinkID) {
	if routes, ok := m.routeLinks[linkID]; ok {
		for routeID := range routes {
			st := netmsg.ServerType(routeID >> 48)
			serverTypeID := routeID >> 16
			delete(m.routes, routeID)
			if byType, ok := m.serverTypes[st]; ok {
				delete(byType, routeID)
			}
			if byTypeID, ok := m.serverTypeIDs[serverTypeID]; ok {
				delete(byTypeID, routeID)
			}
		}
		delete(m.routeLinks, linkID)
	}
	if users, ok := m.userLinks[linkID]; ok {
		for userID := range users {
			delete(m.users, userID)
		}
		delete(m.userLinks, linkID)
	}
}

// FindRouteByUser returns 0 when the user is unknown.
func (m *RouteMgr) FindRouteByUser(userID netmsg.UserID) netmsg.LinkID {
	return m.users[userID]
}

// FindRouteByServer returns 0 when the identity is unknown.
func (m *RouteMgr) FindRouteByServer(st netmsg.ServerType, sid netmsg.ServerID, idx netmsg.ServerIndex) netmsg.LinkID {
	return m.routes[netmsg.MakeRouteID(st, sid, idx)]
}

// FindServerTypeRoutes lists every route of one server type.
func (m *RouteMgr) FindServerTypeRoutes(st netmsg.ServerType) RouteMap {
	return m.serverTypes[st]
}

// FindServerTypeIDRoutes lists every route of one (type, id) pair.
func (m *RouteMgr) FindServerTypeIDRoutes(st netmsg.ServerType, sid netmsg.ServerID) RouteMap {
	prefix := netmsg.RouteID(st)
	prefix <<= 32
	prefix |= netmsg.RouteID(sid)
	return m.serverTypeIDs[prefix]
}
