// Package xpage 实现 OData 分页策略与查询参数构建。
//
// 目标 API 会静默截断页大小（请求 $top=1000 实际返回 100 条），
// 不提供可信的总数，也不返回可靠的 nextLink，因此分页完全由客户端驱动：
//
//   - 游标模式（CursorStrategy）：按单调字段升序，$filter=field gt <上一页最大值>；
//     返回空页即结束，与服务端实际页大小无关
//   - 偏移模式（OffsetStrategy）：没有单调字段时使用 $skip 递增；
//     连续 EmptyBatchLimit 个空页才判定结束，以容忍偶发的“幽灵空页”
//
// 两种策略都只向前推进，不会重复请求已消费的区间，并可从 Checkpoint 恢复。
package xpage
