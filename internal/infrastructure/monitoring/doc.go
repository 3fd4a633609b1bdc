/*
Package monitoring provides Prometheus metrics for the assistant backend.

# Overview

Metrics live on a private registry and are fed by the components they
observe: the HTTP middleware, the intent router (route per turn), the
session manager (flow lifecycle), the Odoo client (ERP calls) and the
document desk (generated letters).

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	sessions := session.NewManager(store, session.WithObserver(metrics))
	erp := odoo.New(cfg.Odoo, odoo.WithRecorder(metrics))
*/
package monitoring
