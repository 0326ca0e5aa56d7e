package web

import (
	"github.com/swaggest/jsonrpc"
)

const (
	codeInvalidBase64 jsonrpc.ErrorCode = iota + 1
	codeInvalidTorrent
	codeV2Only
	codePieceTooLarge
	codeTorrentExists
	codeInvalidHash
	codeTorrentNotFound
)

const codeInvalidParams jsonrpc.ErrorCode = -32602

func CodeError(code jsonrpc.ErrorCode, err error) error {
	return resError{error: err, code: code}
}

type resError struct {
	error
	code jsonrpc.ErrorCode
}

func (r resError) AppErrCode() jsonrpc.ErrorCode {
	return r.code
}

func (r resError) Unwrap() error {
	return r.error
}
