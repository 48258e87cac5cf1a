package middleware

import (
	"net"
	"net/http"
	"strings"

	"ResQFlow/internal/models"
	"ResQFlow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GeoLocator resolves an IP to a city record. *geoip2.Reader satisfies it.
type GeoLocator interface {
	City(ip net.IP) (*geoip2.City, error)
}

// OpenGeoIP opens a GeoLite2 City database. An empty path yields a nil reader.
func OpenGeoIP(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	return geoip2.Open(path)
}

// OperationLogMiddleware 记录操作日志. Only state-changing requests are recorded, after the
// handler has run so the response status is known. geo may be nil.
func OperationLogMiddleware(db *gorm.DB, geo GeoLocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		actor := ActorFrom(c)
		ip := clientIPFromRequest(c)
		ua := user_agent.New(c.GetHeader("User-Agent"))
		browser, version := ua.Browser()
		device := "desktop"
		if ua.Mobile() {
			device = "mobile"
		}
		if ua.Bot() {
			device = "bot"
		}

		target := c.FullPath()
		if target == "" {
			target = c.Request.URL.Path
		}
		entry := &models.OperationLog{
			ActorID:         actor.ID,
			ActorRole:       actor.Role,
			Action:          c.Request.Method,
			Target:          target,
			Details:         c.Request.URL.Path,
			Status:          c.Writer.Status(),
			IPAddress:       ip,
			UserAgent:       c.GetHeader("User-Agent"),
			Device:          device,
			Browser:         strings.TrimSpace(browser + " " + version),
			OperatingSystem: ua.OS(),
			Location:        geoLocation(geo, ip),
		}
		if err := models.CreateOperationLog(db, entry); err != nil {
			logger.Warn("record operation log",
				zap.String("actor", actor.ID),
				zap.String("target", target),
				zap.Error(err))
		}
	}
}

func geoLocation(geo GeoLocator, address string) string {
	if geo == nil {
		return ""
	}
	ip := net.ParseIP(address)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() {
		return ""
	}
	record, err := geo.City(ip)
	if err != nil {
		return ""
	}
	city := record.City.Names["en"]
	country := record.Country.IsoCode
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}
