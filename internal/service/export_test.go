package service

type DatasetGuard = datasetGuard
