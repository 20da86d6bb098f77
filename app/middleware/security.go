package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"

	apperrors "github.com/aihub/rag-backend/internal/errors"
)

// SecurityHeaders 安全头中间件
func SecurityHeaders() web.FilterFunc {
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	return func(ctx *beecontext.Context) {
		for key, value := range headers {
			ctx.Output.Header(key, value)
		}
	}
}

// RateLimit 按客户端IP限流，超限返回429
func RateLimit(limiter *RateLimiter) web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if limiter == nil || ctx.Input.Method() == http.MethodOptions {
			return
		}
		if limiter.Allow(ClientIP(ctx)) {
			return
		}

		appErr := apperrors.NewRateLimitError()
		ctx.Output.Header("Retry-After", retryAfter(limiter.window))
		ctx.Output.SetStatus(appErr.HTTPCode)
		_ = ctx.Output.JSON(map[string]interface{}{
			"success": false,
			"error":   appErr.Message,
			"code":    appErr.Code,
		}, false, false)
	}
}

// clientIPKey 解析后的客户端IP在上下文数据中的键
const clientIPKey = "client_ip"

// ProxyTrust 受信任的反向代理，只有直连地址属于其中时才读取转发头
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust 解析代理列表，元素可以是IP或CIDR
func NewProxyTrust(proxies []string) (*ProxyTrust, error) {
	pt := &ProxyTrust{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", p)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			p = fmt.Sprintf("%s/%d", ip, bits)
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		pt.nets = append(pt.nets, ipNet)
	}
	return pt, nil
}

// Trusted 判断地址是否为受信任代理
func (pt *ProxyTrust) Trusted(addr string) bool {
	if pt == nil {
		return false
	}
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, n := range pt.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve 计算客户端IP：直连地址不可信时忽略转发头，
// 否则从 X-Forwarded-For 右侧跳过受信任代理，取第一个外部地址
func (pt *ProxyTrust) Resolve(remoteAddr, forwardedFor, realIP string) string {
	remote := hostOnly(remoteAddr)
	if !pt.Trusted(remote) {
		return remote
	}

	if forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := hostOnly(strings.TrimSpace(hops[i]))
			if hop == "" {
				continue
			}
			if !pt.Trusted(hop) {
				return hop
			}
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	return remote
}

// ClientIPResolver 在其它过滤器之前解析客户端IP
func ClientIPResolver(pt *ProxyTrust) web.FilterFunc {
	return func(ctx *beecontext.Context) {
		ctx.Input.SetData(clientIPKey, pt.Resolve(
			ctx.Request.RemoteAddr,
			ctx.Input.Header("X-Forwarded-For"),
			ctx.Input.Header("X-Real-IP"),
		))
	}
}

// ClientIP 获取客户端IP，未经 ClientIPResolver 解析时只使用直连地址
func ClientIP(ctx *beecontext.Context) string {
	if ip, ok := ctx.Input.GetData(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(ctx.Request.RemoteAddr)
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func retryAfter(window time.Duration) string {
	secs := int(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// RateLimiter 滑动窗口内存限流器
type RateLimiter struct {
	requests int
	window   time.Duration

	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(clientIP string) bool {
	if rl.requests <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := pruneBefore(rl.clients[clientIP], now.Add(-rl.window))
	if len(valid) >= rl.requests {
		rl.clients[clientIP] = valid
		return false
	}
	rl.clients[clientIP] = append(valid, now)

	// 客户端过多时顺带清理过期记录
	if len(rl.clients) > 1024 {
		rl.cleanupLocked(now)
	}
	return true
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	windowStart := now.Add(-rl.window)
	for ip, times := range rl.clients {
		valid := pruneBefore(times, windowStart)
		if len(valid) == 0 {
			delete(rl.clients, ip)
		} else {
			rl.clients[ip] = valid
		}
	}
}

// pruneBefore 移除 windowStart 之前的请求时间
func pruneBefore(times []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(windowStart) {
		i++
	}
	return times[i:]
}
