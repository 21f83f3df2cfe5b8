// Package xmetrics 定义摄取链路的观测接口（metrics + tracing）。
//
// 业务代码只依赖 Observer/Span/Attr，默认实现基于 OpenTelemetry。
//
//	obs, _ := xmetrics.NewOTelObserver()
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xfetch",
//		Operation: "fetch_page",
//		Kind:      xmetrics.KindClient,
//	})
//	defer span.End(xmetrics.Result{Err: err, Records: n})
//
// # 指标
//
//   - xingest.operation.total     操作次数
//   - xingest.operation.duration  操作耗时（秒）
//   - xingest.records.total       Result.Records 累计
//
// 统一属性：component / operation / status。
package xmetrics
