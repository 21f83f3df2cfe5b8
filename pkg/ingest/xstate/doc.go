// Package xstate 持久化摄取流的进度。
//
// [State] 记录一次运行的游标或偏移、累计计数与状态机位置，
// 只在页面写入 Sink 成功后更新，因此任何时刻保存的都是干净的页边界。
//
// 存储实现：
//   - [FileStore]：每个键一个 JSON 文件，临时文件 + rename 原子替换
//   - [RedisStore]：go-redis，可选 TTL
//   - [EtcdStore]：etcd v3 KV
//
// [RedisLocker] 基于 redsync 保证同一端点同一时刻只有一个进程在摄取。
package xstate
