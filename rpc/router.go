package rpc

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

func (rpc *RpcController) Newrouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithFormatter(ginLogFormatter(rpc.logger())), gin.Recovery())
	router.GET("/", rpc.writeListOfEndpoints)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	router.GET("status", rpc.Status)
	router.GET("committee", rpc.CommitteeInfo)
	router.GET("leader_schedule", rpc.LeaderSchedule)
	// broadcast API
	router.POST("new_transaction", rpc.NewTransaction)
	// query API
	router.GET("transaction", rpc.Transaction)
	return router
}

// writes a list of available rpc endpoints as an html page
func (rpc *RpcController) writeListOfEndpoints(c *gin.Context) {
	routerMap := map[string]string{
		"status":          "",
		"committee":       "",
		"leader_schedule": "",
		"transaction":     "id",
	}
	var noArgNames, argNames []string
	for name, args := range routerMap {
		if len(args) == 0 {
			noArgNames = append(noArgNames, name)
		} else {
			argNames = append(argNames, name)
		}
	}
	sort.Strings(noArgNames)
	sort.Strings(argNames)
	buf := new(bytes.Buffer)
	buf.WriteString("<html><body>")
	buf.WriteString("<br>Available endpoints:<br>")
	for _, name := range noArgNames {
		link := fmt.Sprintf("http://%s/%s", c.Request.Host, name)
		buf.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a></br>", link, link))
	}
	buf.WriteString("<br>Endpoints that require arguments:<br>")
	for _, name := range argNames {
		link := fmt.Sprintf("http://%s/%s?", c.Request.Host, name)
		args := strings.Split(routerMap[name], ",")
		for i, arg := range args {
			link += arg + "=_"
			if i < len(args)-1 {
				link += "&"
			}
		}
		buf.WriteString(fmt.Sprintf("<a href=\"%s\">%s</a></br>", link, link))
	}
	buf.WriteString("<br>POST new_transaction {\"transactions\": [\"hex\", ...]}<br>")
	buf.WriteString("</body></html>")
	c.Data(http.StatusOK, "text/html", buf.Bytes())
}
