package activity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// MaxIPAddressLength はactivity_logs.ip_addressの列長。
const MaxIPAddressLength = 64

type clientIPContextKey struct{}

// IPResolver は信頼済みプロキシの設定に基づいてクライアントIPを決定する。
// RemoteAddrが信頼済みプロキシでない限りX-Forwarded-Forは参照しない。
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver は信頼済みプロキシのCIDR（単一アドレスも可）からIPResolverを生成する。
// 解析できない値があればエラーを返す。
func NewIPResolver(trustedProxies []string) (*IPResolver, error) {
	res := &IPResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			addr = addr.Unmap()
			res.trusted = append(res.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		res.trusted = append(res.trusted, prefix.Masked())
	}
	return res, nil
}

// Resolve はリクエスト元のIPアドレスを返す。
// 直接の接続元が信頼済みプロキシの場合のみ、X-Forwarded-Forを右から辿り
// 最初に現れた信頼済みでないアドレスを採用する。解析できないホップがあればそこで止める。
func (res *IPResolver) Resolve(r *http.Request) string {
	peer, ok := remoteAddr(r)
	if !ok {
		return truncateIP(r.RemoteAddr)
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	client := peer
	hops := forwardedHops(r)
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = addr.Unmap().WithZone("")
		if !res.isTrusted(client) {
			break
		}
	}
	return client.String()
}

// Middleware は解決したクライアントIPをリクエストのコンテキストに格納する。
func (res *IPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithClientIP(r.Context(), res.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (res *IPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ContextWithClientIP はクライアントIPをコンテキストに格納する。
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIP はリクエスト元のIPアドレスを返す。
// IPResolver.Middlewareが解決した値があればそれを、なければRemoteAddrのホスト部を使う。
// ヘッダーはここでは参照しない。
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey{}).(string); ok && ip != "" {
		return ip
	}
	if addr, ok := remoteAddr(r); ok {
		return addr.String()
	}
	return truncateIP(r.RemoteAddr)
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	return hops
}

func truncateIP(s string) string {
	if len(s) > MaxIPAddressLength {
		return s[:MaxIPAddressLength]
	}
	return s
}
