package server

import (
	"context"

	"credit-service/internal/conf"
	"credit-service/internal/service"

	"github.com/gaoyong06/go-pkg/middleware/app_id"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 路由操作名，用于中间件与日志
const (
	OperationIssueGrant    = "/credit.v1.CreditInternalService/IssueGrant"
	OperationDeduct        = "/credit.v1.CreditService/Deduct"
	OperationGetAvailable  = "/credit.v1.CreditService/GetAvailable"
	OperationListGrants    = "/credit.v1.CreditService/ListGrants"
	OperationGetBalance    = "/credit.v1.CreditService/GetBalance"
	OperationListLedger    = "/credit.v1.CreditService/ListLedger"
	OperationGetUsageStats = "/credit.v1.CreditService/GetUsageStats"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(c *conf.Bootstrap, credit *service.CreditService, internal *service.CreditInternalService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			// app_id 写入 Context，日志与下游调用可以按应用区分
			app_id.Middleware(),
			logging.Server(logger),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	// 内部服务（管理后台 / 支付回调）
	RegisterCreditInternalHTTPServer(srv, internal)
	// 外部服务（业务方）
	RegisterCreditHTTPServer(srv, credit)

	srv.Handle("/metrics", promhttp.Handler())
	return srv
}

// RegisterCreditInternalHTTPServer 注册内部路由
func RegisterCreditInternalHTTPServer(s *http.Server, svc *service.CreditInternalService) {
	r := s.Route("/")
	r.POST("/v1/credits/grants", func(ctx http.Context) error {
		var in service.IssueGrantRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationIssueGrant)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return svc.IssueGrant(ctx, req.(*service.IssueGrantRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}

// RegisterCreditHTTPServer 注册外部路由
func RegisterCreditHTTPServer(s *http.Server, svc *service.CreditService) {
	r := s.Route("/")
	r.POST("/v1/credits/deduct", func(ctx http.Context) error {
		var in service.DeductRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationDeduct)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return svc.Deduct(ctx, req.(*service.DeductRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.GET("/v1/credits/{account_id}/available", accountHandler(OperationGetAvailable, func(ctx context.Context, in *service.AccountRequest) (any, error) {
		return svc.GetAvailable(ctx, in)
	}))
	r.GET("/v1/credits/{account_id}/grants", accountHandler(OperationListGrants, func(ctx context.Context, in *service.AccountRequest) (any, error) {
		return svc.ListGrants(ctx, in)
	}))
	r.GET("/v1/credits/{account_id}/balance", accountHandler(OperationGetBalance, func(ctx context.Context, in *service.AccountRequest) (any, error) {
		return svc.GetBalance(ctx, in)
	}))
	r.GET("/v1/credits/{account_id}/ledger", func(ctx http.Context) error {
		var in service.ListLedgerRequest
		if err := ctx.BindQuery(&in); err != nil {
			return err
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationListLedger)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return svc.ListLedger(ctx, req.(*service.ListLedgerRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
	r.GET("/v1/credits/{account_id}/stats", func(ctx http.Context) error {
		var in service.UsageStatsRequest
		if err := ctx.BindQuery(&in); err != nil {
			return err
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationGetUsageStats)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return svc.GetUsageStats(ctx, req.(*service.UsageStatsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}

// accountHandler 只带 account_id 路径参数的 GET 路由
func accountHandler(operation string, call func(ctx context.Context, in *service.AccountRequest) (any, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in service.AccountRequest
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*service.AccountRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
