package router

import (
	"strings"

	"github.com/beego/beego/v2/server/web"
)

// RouteGroup 路由组
type RouteGroup struct {
	prefix      string
	middlewares []web.FilterFunc
	parent      *RouteGroup
	children    []*RouteGroup
	routes      []Route
}

// Route 路由定义
type Route struct {
	Method  string
	Path    string
	Handler string
	Comment string
}

// NewRouteGroup 创建路由组
func NewRouteGroup(prefix string) *RouteGroup {
	return &RouteGroup{
		prefix:   prefix,
		children: make([]*RouteGroup, 0),
		routes:   make([]Route, 0),
	}
}

// Group 创建子路由组
func (rg *RouteGroup) Group(prefix string) *RouteGroup {
	child := NewRouteGroup(prefix)
	child.parent = rg
	rg.children = append(rg.children, child)
	return child
}

// Use 添加中间件
func (rg *RouteGroup) Use(middlewares ...web.FilterFunc) *RouteGroup {
	rg.middlewares = append(rg.middlewares, middlewares...)
	return rg
}

// Add 添加路由
func (rg *RouteGroup) Add(method, path, handler string, comment ...string) *RouteGroup {
	route := Route{
		Method:  method,
		Path:    path,
		Handler: handler,
	}
	if len(comment) > 0 {
		route.Comment = comment[0]
	}
	rg.routes = append(rg.routes, route)
	return rg
}

// GET 添加GET路由
func (rg *RouteGroup) GET(path, handler string, comment ...string) *RouteGroup {
	return rg.Add("GET", path, handler, comment...)
}

// POST 添加POST路由
func (rg *RouteGroup) POST(path, handler string, comment ...string) *RouteGroup {
	return rg.Add("POST", path, handler, comment...)
}

// DELETE 添加DELETE路由
func (rg *RouteGroup) DELETE(path, handler string, comment ...string) *RouteGroup {
	return rg.Add("DELETE", path, handler, comment...)
}

// fullPrefix 返回包含所有父组前缀的完整前缀
func (rg *RouteGroup) fullPrefix() string {
	if rg.parent == nil {
		return rg.prefix
	}
	return rg.parent.fullPrefix() + rg.prefix
}

// Mount 将本组路由绑定到控制器并注册，同一路径的多个方法合并为一条映射
func (rg *RouteGroup) Mount(h *web.ControllerRegister, ctrl web.ControllerInterface) error {
	prefix := rg.fullPrefix()

	for _, mw := range rg.middlewares {
		if err := h.InsertFilter(prefix+"/*", web.BeforeRouter, mw); err != nil {
			return err
		}
	}

	mappings := make(map[string][]string)
	var order []string
	for _, route := range rg.routes {
		path := prefix + route.Path
		if _, ok := mappings[path]; !ok {
			order = append(order, path)
		}
		mappings[path] = append(mappings[path], strings.ToLower(route.Method)+":"+route.Handler)
	}
	for _, path := range order {
		h.Add(path, ctrl, web.WithRouterMethods(ctrl, strings.Join(mappings[path], ";")))
	}
	return nil
}

// GetAllRoutes 获取所有路由定义（用于调试和文档）
func (rg *RouteGroup) GetAllRoutes() []RouteDefinition {
	var routes []RouteDefinition
	rg.collectRoutes(&routes)
	return routes
}

func (rg *RouteGroup) collectRoutes(routes *[]RouteDefinition) {
	prefix := rg.fullPrefix()
	for _, route := range rg.routes {
		*routes = append(*routes, RouteDefinition{
			Method:  route.Method,
			Path:    prefix + route.Path,
			Handler: route.Handler,
			Comment: route.Comment,
		})
	}

	for _, child := range rg.children {
		child.collectRoutes(routes)
	}
}

// RouteDefinition 路由定义
type RouteDefinition struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
	Comment string `json:"comment,omitempty"`
}
