package httpserver

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/tunnelscope/internal/export"
	"github.com/tinytelemetry/tunnelscope/internal/model"
)

const dateLayout = "2006-01-02"

// parseFilter reads date, from, to, country and limit query parameters.
func parseFilter(c *gin.Context) (model.VisitorFilter, error) {
	f := model.VisitorFilter{Date: model.DateAll}

	switch d := model.DateFilter(strings.ToLower(c.DefaultQuery("date", string(model.DateAll)))); d {
	case model.DateAll, model.DateToday:
		f.Date = d
	case model.DateCustom:
		f.Date = d
		from, err := time.ParseInLocation(dateLayout, c.Query("from"), time.Local)
		if err != nil {
			return f, fmt.Errorf("invalid from date %q", c.Query("from"))
		}
		to, err := time.ParseInLocation(dateLayout, c.Query("to"), time.Local)
		if err != nil {
			return f, fmt.Errorf("invalid to date %q", c.Query("to"))
		}
		if to.Before(from) {
			return f, fmt.Errorf("to date is before from date")
		}
		f.From, f.To = from, to
	default:
		return f, fmt.Errorf("invalid date filter %q", d)
	}

	if country := strings.TrimSpace(c.Query("country")); !strings.EqualFold(country, "all") {
		f.Country = country
	}

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleVisitors(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	visitors, err := s.deps.Store.RecentVisitors(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query visitors"})
		return
	}
	total, err := s.deps.Store.TotalVisitors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count visitors"})
		return
	}
	if visitors == nil {
		visitors = []model.VisitorRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"visitors": visitors,
		"count":    len(visitors),
		"total":    total,
	})
}

func (s *Server) handleExport(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	visitors, err := s.deps.Store.RecentVisitors(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query visitors"})
		return
	}
	if len(visitors) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data to export"})
		return
	}

	name := fmt.Sprintf("visitors-%s.%s", time.Now().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Type", format.ContentType())
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, format, visitors); err != nil {
		s.deps.Emitter.Emit(model.LogMessage{
			Text:  fmt.Sprintf("Error exporting data: %v", err),
			Level: model.LevelError,
			Time:  time.Now(),
		})
		return
	}
	s.deps.Emitter.Emit(model.LogMessage{
		Text:  fmt.Sprintf("Data exported to %s", name),
		Level: model.LevelSuccess,
		Time:  time.Now(),
	})
}

func (s *Server) handleClearVisitors(c *gin.Context) {
	n, err := s.deps.Store.ClearVisitors()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear visitors"})
		return
	}
	if n > 0 {
		s.deps.Emitter.Emit(model.LogMessage{
			Text:  "All visitor data cleared",
			Level: model.LevelWarning,
			Time:  time.Now(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) handleCountries(c *gin.Context) {
	countries, err := s.deps.Store.ListCountries()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list countries"})
		return
	}
	limit := 10
	if raw := c.Query("top"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	top, err := s.deps.Store.TopCountries(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rank countries"})
		return
	}
	if countries == nil {
		countries = []string{}
	}
	if top == nil {
		top = []model.CountryCount{}
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries, "top": top})
}

func (s *Server) handleFingerprint(c *gin.Context) {
	ip := c.Param("ip")
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid IPv4 address %q", ip)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ip":          ip,
		"fingerprint": s.deps.Fingerprint(ip),
		"links": gin.H{
			"whois":     "https://whois.domaintools.com/" + ip,
			"abuseipdb": "https://www.abuseipdb.com/check/" + ip,
		},
	})
}
