package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihub/knowledge-go/app/controllers"
)

// Init registers all routes. Must be called after services are registered.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Handler("/metrics", promhttp.Handler())

	kbController := &controllers.KnowledgeBaseController{}
	web.Router("/knowledge-bases", kbController, "get:List;post:Create")
	web.Router("/knowledge-bases/:id", kbController, "get:Get;put:Update;delete:Delete")
	web.Router("/knowledge-bases/:id/index", kbController, "post:Index")
	web.Router("/knowledge-bases/:id/search", &controllers.SearchController{}, "get:Search")

	docController := &controllers.DocumentController{}
	web.Router("/knowledge-bases/:id/documents", docController, "get:List;post:Upload")
	web.Router("/knowledge-bases/:id/documents/:doc_id", docController, "get:Get;delete:Delete")

	ragController := &controllers.RAGController{}
	web.Router("/rag/query", ragController, "post:Query")
}
