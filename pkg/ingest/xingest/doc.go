// Package xingest 驱动单个摄取流的抓取、重试、分页与落地。
//
// 一个流在单个 goroutine 中顺序执行：第 N+1 页的请求依赖第 N 页推导出的游标或偏移。
// 每页：
//
//	Fetching  → xretry 包裹的 xfetch 单次抓取（重试时进入 Retrying）
//	Accepting → 去重（页内、本次运行的 LRU、Sink.Exists）→ Sink.Upsert → 推进分页 → 保存状态
//
// 状态只在 Sink 写入成功后更新，取消或崩溃都停在干净的页边界上。
// Client 错误、重试耗尽、熔断拒绝、Sink 失败都会让运行停在 Failed，
// 并保留可续跑的游标或偏移。结束时若期望总数与实际不符，
// 只产生 xfault.IncompleteDatasetWarning，不视为失败。
//
// 不同端点可以通过 [RunAll] 并发运行，共享同一个熔断器注册表。
package xingest
