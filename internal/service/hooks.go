package service

import (
	"context"

	"datavault-go/internal/model"
)

// HookAction 决定扩展点返回后上传服务如何继续。
type HookAction int

const (
	// HookContinue 继续执行后续钩子和默认行为。
	HookContinue HookAction = iota
	// HookOverride 用钩子给出的文件代替默认行为的结果，并跳过后续钩子。
	HookOverride
	// HookAbort 以钩子给出的错误终止操作。
	HookAbort
)

// HookResult 是钩子的返回值。
type HookResult struct {
	Action HookAction
	File   *model.File
	Err    error
}

// Continue 返回继续执行的结果。
func Continue() HookResult { return HookResult{Action: HookContinue} }

// Override 返回替换结果。
func Override(file *model.File) HookResult { return HookResult{Action: HookOverride, File: file} }

// Abort 返回终止结果。
func Abort(err error) HookResult { return HookResult{Action: HookAbort, Err: err} }

// BeforeFinalizeHook 在上传被提交为文件之前调用。
// 返回 Override 时钩子负责数据的去向，上传记录仍会被删除；返回 Abort 时上传记录保持不变。
type BeforeFinalizeHook func(ctx context.Context, upload *model.Upload) HookResult

// AfterFinalizeHook 在文件持久化之后调用。
// 返回 Override 可替换返回给调用方的文件；返回 Abort 时错误返回给调用方，但文件已经保存。
type AfterFinalizeHook func(ctx context.Context, upload *model.Upload, file *model.File) HookResult

// AssetstoreSelector 为新上传挑选存储，返回 nil 表示没有偏好（使用当前存储）。
// 配额、首选存储等策略通过它接入。
type AssetstoreSelector func(ctx context.Context, upload *model.Upload) (*model.Assetstore, error)

// Hooks 汇总上传服务的扩展点，按注册顺序执行。
type Hooks struct {
	BeforeFinalize []BeforeFinalizeHook
	AfterFinalize  []AfterFinalizeHook
	SelectStore    []AssetstoreSelector
}

func (h Hooks) runBefore(ctx context.Context, upload *model.Upload) HookResult {
	for _, hook := range h.BeforeFinalize {
		if res := hook(ctx, upload); res.Action != HookContinue {
			return res
		}
	}
	return Continue()
}

func (h Hooks) runAfter(ctx context.Context, upload *model.Upload, file *model.File) HookResult {
	for _, hook := range h.AfterFinalize {
		if res := hook(ctx, upload, file); res.Action != HookContinue {
			return res
		}
	}
	return Continue()
}

func (h Hooks) selectStore(ctx context.Context, upload *model.Upload) (*model.Assetstore, error) {
	for _, sel := range h.SelectStore {
		store, err := sel(ctx, upload)
		if err != nil || store != nil {
			return store, err
		}
	}
	return nil, nil
}
